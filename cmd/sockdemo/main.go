// SPDX-License-Identifier: GPL-3.0-or-later

// Command sockdemo resolves a name and exchanges echo messages
// between simulated network stacks using sockets.
//
// Usage:
//
//	sockdemo [--count N] [--name NAME] [--timeout D] [--verbose]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/stacksock/netsim"
	simdns "github.com/rbmk-project/stacksock/netsim/dns"
	"github.com/rbmk-project/stacksock/netsim/router"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/socket"
	"github.com/rbmk-project/stacksock/stack"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

var (
	clientAddr = netip.MustParseAddr("130.192.91.211")
	dnsAddr    = netip.MustParseAddr("8.8.8.8")
	echoAddr   = netip.MustParseAddr("104.18.26.120")
)

func main() {
	var (
		count   = pflag.IntP("count", "c", 3, "number of echo messages to exchange")
		name    = pflag.StringP("name", "n", "echo.example.com", "domain name of the echo server")
		timeout = pflag.DurationP("timeout", "t", 5*time.Second, "timeout of each socket operation")
		verbose = pflag.BoolP("verbose", "v", false, "emit structured logs on the standard error")
	)
	pflag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), logger, *name, *count, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "sockdemo: %s\n", err.Error())
		os.Exit(1)
	}
}

// run creates the topology, starts the servers, and runs the client.
func run(ctx context.Context, logger *slog.Logger, name string, count int, timeout time.Duration) error {
	bounded, err := sockcall.Bounded(timeout)
	if err != nil {
		return err
	}
	socket.SetDefaultTimeout(bounded)
	config := &socket.Config{Logger: logger}

	rtr := router.New(logger)
	defer rtr.Close()
	newStack := func(name string, addr netip.Addr) *stack.Stack {
		ns := netsim.NewStack(&netsim.Config{Logger: logger}, addr)
		rtr.Attach(ns)
		return stack.New(name, ns)
	}
	clientStack := newStack("client", clientAddr)
	defer clientStack.Release()
	dnsStack := newStack("dns", dnsAddr)
	defer dnsStack.Release()
	echoStack := newStack("echo", echoAddr)
	defer echoStack.Release()

	// DNS server
	db := simdns.NewDatabase()
	db.AddAddresses([]string{name}, []string{echoAddr.String()})
	dnsConn := mustBind(ctx, config, dnsStack, unix.SOCK_DGRAM, dnsAddr, 53)
	defer dnsConn.Close()
	go db.Serve(ctx, dnsConn, logger)

	// echo server
	listener := mustBind(ctx, config, echoStack, unix.SOCK_STREAM, echoAddr, 7)
	defer listener.Close()
	runtimex.Try0(listener.Listen(ctx, socket.DefaultBacklog))
	go serveEcho(ctx, listener, logger)

	addr, err := resolve(ctx, config, clientStack, name)
	if err != nil {
		return err
	}
	fmt.Printf("resolved %s to %s\n", name, addr)
	return echo(ctx, config, clientStack, addr, count)
}

// mustBind creates a socket bound to the given address or panics.
func mustBind(ctx context.Context, config *socket.Config,
	st *stack.Stack, sotype int, addr netip.Addr, port int) *socket.Socket {
	sock := runtimex.Try1(socket.New(config, st, unix.AF_INET, sotype, 0))
	runtimex.Try0(sock.Bind(ctx, &unix.SockaddrInet4{Port: port, Addr: addr.As4()}))
	return sock
}

// resolve returns the first IPv4 address of name.
func resolve(ctx context.Context, config *socket.Config, st *stack.Stack, name string) (netip.Addr, error) {
	sock, err := socket.New(config, st, unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return netip.Addr{}, err
	}
	defer sock.Close()

	query := &dns.Msg{}
	query.SetQuestion(dns.CanonicalName(name), dns.TypeA)
	rawQuery, err := query.Pack()
	if err != nil {
		return netip.Addr{}, err
	}
	if err := sock.Connect(ctx, &unix.SockaddrInet4{Port: 53, Addr: dnsAddr.As4()}); err != nil {
		return netip.Addr{}, err
	}
	if _, err := sock.Send(ctx, rawQuery, 0); err != nil {
		return netip.Addr{}, err
	}
	rawResp, err := sock.Recv(ctx, dns.MaxMsgSize, 0)
	if err != nil {
		return netip.Addr{}, err
	}

	resp := &dns.Msg{}
	if err := resp.Unpack(rawResp); err != nil {
		return netip.Addr{}, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("resolve %s: %s", name, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: no A records", name)
}

// echo connects to the echo server and exchanges count messages.
func echo(ctx context.Context, config *socket.Config, st *stack.Stack, addr netip.Addr, count int) error {
	sock, err := socket.New(config, st, unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	defer sock.Close()
	if err := sock.Connect(ctx, &unix.SockaddrInet4{Port: 7, Addr: addr.As4()}); err != nil {
		return err
	}
	fmt.Printf("connected: %s\n", sock)

	for idx := 0; idx < count; idx++ {
		message := fmt.Sprintf("message #%d", idx)
		if err := sock.SendAll(ctx, []byte(message), 0); err != nil {
			return err
		}
		reply := make([]byte, 0, len(message))
		for len(reply) < len(message) {
			data, err := sock.Recv(ctx, len(message)-len(reply), 0)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("echo: unexpected EOF")
			}
			reply = append(reply, data...)
		}
		fmt.Printf("echoed: %q\n", reply)
	}
	return sock.Shutdown(ctx, unix.SHUT_WR)
}

// serveEcho accepts connections and echoes back what they send.
func serveEcho(ctx context.Context, listener *socket.Socket, logger *slog.Logger) {
	for {
		conn, _, err := listener.Accept(ctx)
		if err != nil {
			logger.DebugContext(ctx, "echoServerDone", slog.Any("err", err))
			return
		}
		go func() {
			defer conn.Close()
			for {
				data, err := conn.Recv(ctx, 4096, 0)
				if err != nil || len(data) == 0 {
					return
				}
				if err := conn.SendAll(ctx, data, 0); err != nil {
					return
				}
			}
		}()
	}
}
