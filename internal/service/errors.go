package service

import "errors"

// 业务层通用错误。路由器把 ErrInvalidMessage / ErrNotAllowed 当作静默丢弃，
// 其余错误按持久化失败记录日志。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrNotAllowed         = errors.New("operation not allowed")
)
