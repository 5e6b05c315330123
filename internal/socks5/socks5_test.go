package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	users := func(name, pass string) bool { return name == "user" && pass == "pass" }

	tests := []struct {
		name     string
		auth     Auth
		wantErr  error
		wantUser string
	}{
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}, wantUser: "user"},
		{name: "bad_pass", auth: Auth{Username: "user", Password: "nope"}, wantErr: ErrAuthFailed},
		{name: "no_auth_offered", wantErr: ErrNoAcceptableMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				user, err := ServerNegotiate(serverConn, users)
				if err != nil {
					return err
				}
				if user != tt.wantUser {
					return fmt.Errorf("user = %q, want %q", user, tt.wantUser)
				}

				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				host, port, err := SplitRequestAddress(req)
				if err != nil {
					return err
				}
				if host != "example.com" || port != "80" {
					return fmt.Errorf("unexpected address %s:%s", host, port)
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			err := ClientDial(clientConn, tt.auth, "example.com:80")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("client err = %v, want %v", err, tt.wantErr)
				}
				if serr := g.Wait(); !errors.Is(serr, tt.wantErr) {
					t.Fatalf("server err = %v, want %v", serr, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientConnectReplyError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		req, err := ServerReadRequest(serverConn)
		if err != nil {
			return err
		}
		WriteNotAllowedReply(serverConn, req.Atyp)
		return nil
	})

	err := ClientConnect(clientConn, "10.0.0.1:443")
	var re *ReplyError
	if !errors.As(err, &re) || re.Rep != RepNotAllowed {
		t.Fatalf("err = %v, want reply 0x02", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
