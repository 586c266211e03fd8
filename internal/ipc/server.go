package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts clients on listener until the context is cancelled or the
// listener closes, running one goroutine per connection. Cancellation waits
// for in-flight connections before returning.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var conns sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				conns.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			serveConn(ctx, conn, handler)
		}()
	}
}

// serveConn answers a single request on conn. Each connection carries exactly
// one command; clients reconnect per command.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		respond(conn, Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		respond(conn, Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	respond(conn, handler.Handle(ctx, req))
}

func respond(conn net.Conn, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(payload, '\n'))
}
