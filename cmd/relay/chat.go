package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"goa.design/relay/runtime/relay/runtime"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stream"
)

// chat is an interactive console session.
type chat struct {
	rt     *runtime.Runtime
	store  session.Store
	in     *bufio.Scanner
	out    io.Writer
	resume bool
}

func newChat(rt *runtime.Runtime, store session.Store, in io.Reader, out io.Writer, resume bool) *chat {
	return &chat{rt: rt, store: store, in: bufio.NewScanner(in), out: out, resume: resume}
}

// Run reads queries until the user types exit or the input ends. Typing reset
// clears the conversation while keeping the user.
func (c *chat) Run(ctx context.Context) error {
	userID, err := c.open(ctx)
	if err != nil || userID == "" {
		return err
	}
	for {
		q, ok := c.prompt("Enter topic or 'exit': ")
		if !ok || strings.EqualFold(q, "exit") {
			return nil
		}
		if q == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.EqualFold(q, "reset") {
			if err := resetSession(ctx, c.store, userID); err != nil {
				fmt.Fprintf(c.out, "Error during reset: %v\n\n", err)
				continue
			}
			fmt.Fprintf(c.out, "Context reset for user %s\n\n", userID)
			continue
		}
		c.turn(ctx, userID, q)
	}
}

// open asks for the user id and name until it finds an id it may use. It
// returns an empty id when input ends first.
func (c *chat) open(ctx context.Context) (string, error) {
	for {
		userID, ok := c.prompt("Enter your user ID: ")
		if !ok {
			return "", nil
		}
		if c.resume {
			_, err := c.store.Load(ctx, userID)
			switch {
			case err == nil:
				fmt.Fprintf(c.out, "Resumed context for user %s\n", userID)
				return userID, nil
			case !errors.Is(err, session.ErrNotFound):
				return "", err
			}
		}
		name, ok := c.prompt("Enter your name: ")
		if !ok {
			return "", nil
		}
		err := session.Create(ctx, c.store, session.New(userID, name))
		switch {
		case err == nil:
			fmt.Fprintf(c.out, "Created new context for user %s\n", userID)
			return userID, nil
		case errors.Is(err, session.ErrExists):
			fmt.Fprintln(c.out, "A conversation with this ID already exists. Please use a different one.")
		case errors.Is(err, session.ErrInvalid):
			fmt.Fprintln(c.out, "Invalid user ID. Please use letters, digits, '.', '_', '@' or '-'.")
		default:
			return "", err
		}
	}
}

// turn runs one query and prints its events.
func (c *chat) turn(ctx context.Context, userID, q string) {
	t, err := c.rt.Run(ctx, userID, q)
	if err != nil {
		fmt.Fprintf(c.out, "Error during run: %v\n\n", err)
		return
	}
	t.Drain(func(e stream.Event) { printEvent(c.out, e) })
}

func (c *chat) prompt(label string) (string, bool) {
	fmt.Fprint(c.out, label)
	if !c.in.Scan() {
		fmt.Fprintln(c.out)
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// printEvent renders one event the way the console shows them.
func printEvent(w io.Writer, e stream.Event) {
	switch ev := e.(type) {
	case stream.AgentSwitched:
		fmt.Fprintf(w, "Agent updated: %s\n", ev.To)
	case stream.ToolCallStarted:
		fmt.Fprintln(w, "-- Tool was called")
	case stream.ToolCallFinished:
		if ev.Err != "" {
			fmt.Fprintf(w, "-- Tool output: error: %s\n", ev.Err)
			return
		}
		fmt.Fprintf(w, "-- Tool output: %s\n", ev.Result)
	case stream.MessageProduced:
		fmt.Fprintf(w, "-- Message output:\n %s\n", ev.Text)
	case stream.RunFailed:
		fmt.Fprintf(w, "%s\n\n", ev.Reason)
	}
}
