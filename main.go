package main

import (
	"github.com/AkashInfoDev/helpdesk-back-end/server"
)

func main() {
	s := server.NewServer()
	addr := s.Config.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.Start(addr)
}
