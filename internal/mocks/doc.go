package mocks

//go:generate mockgen -destination session.go -package mocks github.com/vlanhop/vlanhop/pkg/session Dialer,Conn
