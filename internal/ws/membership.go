package ws

// MembershipPolicy 决定一条房间消息投递给哪些连接。
// 房间没有持久化成员表，把"未给成员名单时广播给谁"做成显式策略。
type MembershipPolicy interface {
	Resolve(reg *Registry, explicit []uint) []*Client
}

// AllConnected 是默认策略：调用方给了成员名单就按名单投递（仅限在线者），
// 否则投递给全部已登记连接。
type AllConnected struct{}

func (AllConnected) Resolve(reg *Registry, explicit []uint) []*Client {
	if len(explicit) > 0 {
		out := make([]*Client, 0, len(explicit))
		for _, id := range explicit {
			if c, ok := reg.Lookup(id); ok {
				out = append(out, c)
			}
		}
		return out
	}
	return reg.Snapshot()
}
