// Command udpmuxd is a small demonstration harness for the udpmux library:
// "serve" accepts peers on a UDP listening socket and echoes every datagram
// back to its sender; "dial" connects to a remote and echoes stdin lines to
// it, printing whatever comes back.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"udpmux/internal/conf"
	"udpmux/internal/flog"
	"udpmux/internal/udpmux"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "udpmuxd",
		Short: "UDP connection demultiplexer demo harness",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "accept peers on a UDP socket and echo their datagrams back",
	}
	var bindAddr string
	var idleTimeout time.Duration
	serveCmd.Flags().StringVar(&bindAddr, "bind", "[::]:9000", "address to bind")
	serveCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "per-peer idle timeout (0 disables the watchdog)")

	dialCmd := &cobra.Command{
		Use:   "dial",
		Short: "connect to a remote and echo stdin to it",
	}
	var host string
	var port int
	var connectTimeout time.Duration
	dialCmd.Flags().StringVar(&host, "host", "", "remote host or IP literal")
	dialCmd.Flags().IntVar(&port, "port", 0, "remote port")
	dialCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 5*time.Second, "resolve + connect timeout")

	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		setupLogging()
		laddr, err := net.ResolveUDPAddr("udp", bindAddr)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), laddr, idleTimeout)
	}
	dialCmd.RunE = func(cmd *cobra.Command, args []string) error {
		setupLogging()
		if host == "" || port == 0 {
			return fmt.Errorf("--host and --port are required")
		}
		return dial(cmd.Context(), host, port, connectTimeout)
	}

	root.AddCommand(serveCmd, dialCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := flog.Info
	if configPath != "" {
		c, err := conf.LoadFromFile(configPath)
		if err == nil {
			if l, err := flog.ParseLevel(c.Log.Level); err == nil {
				level = l
			}
		}
	}
	flog.SetLevel(level)
}

func serve(ctx context.Context, bind *net.UDPAddr, idleTimeout time.Duration) error {
	acc, err := udpmux.Serve(bind, idleTimeout)
	if err != nil {
		return err
	}
	defer acc.Close()

	flog.Infof("udpmuxd: echoing on %s", acc.Addr())
	for {
		stream, err := acc.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go echoLoop(stream)
	}
}

func echoLoop(stream *udpmux.PeerStream) {
	defer stream.Close()
	buf := make([]byte, 65507)
	for {
		n, err := stream.Read(buf)
		if err != nil {
			flog.Debugf("udpmuxd: peer %s done: %v", stream.PeerAddr(), err)
			return
		}
		if _, err := stream.Write(buf[:n]); err != nil {
			flog.Debugf("udpmuxd: peer %s write failed: %v", stream.PeerAddr(), err)
			return
		}
	}
}

func dial(ctx context.Context, host string, port int, connectTimeout time.Duration) error {
	client, err := udpmux.ConnectClient(ctx, host, port, connectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	go func() {
		buf := make([]byte, 65507)
		for {
			n, err := client.Read(buf)
			if err != nil {
				return
			}
			fmt.Printf("< %s\n", buf[:n])
		}
	}()

	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if _, err := client.Write(scanner.Bytes()); err != nil {
				done <- err
				return
			}
		}
		done <- scanner.Err()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
