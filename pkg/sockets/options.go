package sockets

import "time"

func WithPingInterval(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		s.pingInterval = d
	}
}

func WithWriteTimeout(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		s.writeTimeout = d
	}
}

func OnError(f func(error)) func(*Conn) {
	return func(s *Conn) {
		s.onError = f
	}
}
