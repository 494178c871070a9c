package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-jetstream/jetstream"
	"github.com/go-jetstream/jetstream/fragment"
	"github.com/go-jetstream/jetstream/scope"
	"github.com/go-jetstream/jetstream/transport"
	"github.com/go-jetstream/jetstream/transport/ws"
	"github.com/spf13/cobra"
)

var (
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	changeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	rootStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

func newWatchCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "watch <scope-name>",
		Short: "Attach to a scope and print incoming SyncFragments as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), url, args[0])
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/jetstream", "Jetstream server WebSocket URL")
	return cmd
}

func runWatch(ctx context.Context, url, scopeName string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	link := transport.NewLink(ws.Dialer{URL: url})
	client := jetstream.New(link,
		jetstream.WithOnSession(func(s *jetstream.Session) {
			fmt.Println(rootStyle.Render(fmt.Sprintf("session established (token %s)", s.Token())))
		}),
		jetstream.WithOnSessionDenied(func(e *jetstream.ReplyError) {
			fmt.Println(errStyle.Render(fmt.Sprintf("session denied: %+v", e)))
		}),
		jetstream.WithOnStatusChanged(func(st transport.Status) {
			fmt.Println(faintStyle.Render("transport status: " + st.String()))
		}),
	)

	sc := scope.New(scopeName)
	sc.ObserveRemoteFragments(printFragments)

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	attached := make(chan error, 1)
	if err := client.AttachScope(scopeName, sc, func(err error) { attached <- err }); err != nil {
		return err
	}

	select {
	case err := <-attached:
		if err != nil {
			return fmt.Errorf("attaching scope %q: %w", scopeName, err)
		}
		fmt.Println(rootStyle.Render(fmt.Sprintf("attached to scope %q", scopeName)))
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out attaching to scope %q", scopeName)
	case <-ctx.Done():
		return ctx.Err()
	}

	<-ctx.Done()
	_ = client.Close()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printFragments(frags []*fragment.Fragment) {
	for _, f := range frags {
		style := changeStyle
		switch f.Kind {
		case fragment.KindAdd:
			style = addStyle
		case fragment.KindRoot:
			style = rootStyle
		}
		fmt.Println(style.Render(fmt.Sprintf("%-6s %s %s", f.Kind, f.UUID, f.Class)), f.Properties)
	}
}
