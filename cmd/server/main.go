package main

import (
	"os"

	"chatwire/internal/config"
	"chatwire/internal/db"
	clog "chatwire/internal/log"
	"chatwire/internal/server"
	"chatwire/internal/service"
	"chatwire/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// 加载配置、初始化日志、连接数据库并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("upload dir")
	}

	reg := ws.NewRegistry()
	msgSvc := service.NewMessageService(gdb)
	userSvc := service.NewUserService(gdb, cfg)
	router := ws.NewRouter(reg, msgSvc, userSvc, ws.AllConnected{})

	r := server.SetupRouter(cfg, gdb, reg, router)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
