// Package shim implements the tmux-compatible command-line surface of
// spec §4.11: a drop-in binary that agent CLIs invoke as "tmux" inside
// a kild daemon session, translating a subset of the tmux CLI into
// internal/ipc calls against the one real PTY daemon session.
//
// Grounded on original_source/crates/kild-tmux-shim/src/parser.rs for
// the exact subcommand/flag/alias surface, and on kojo's
// internal/session/tmux.go for the surrounding Go CLI idiom (this
// package parses the same kind of argv kojo's tmux.go only builds).
package shim

import "github.com/kildhq/kild/internal/kilderr"

// Command is the parsed form of one tmux invocation. Exactly one of
// the typed arg fields is populated, selected by Kind.
type Command struct {
	Kind Kind

	SplitWindow    *SplitWindowArgs
	SendKeys       *SendKeysArgs
	ListPanes      *ListPanesArgs
	KillPane       *KillPaneArgs
	DisplayMessage *DisplayMsgArgs
	SelectPane     *SelectPaneArgs
	SetOption      *SetOptionArgs
	SelectLayout   *SelectLayoutArgs
	ResizePane     *ResizePaneArgs
	HasSession     *HasSessionArgs
	NewSession     *NewSessionArgs
	NewWindow      *NewWindowArgs
	ListWindows    *ListWindowsArgs
	BreakPane      *BreakPaneArgs
	JoinPane       *JoinPaneArgs
}

type Kind int

const (
	KindVersion Kind = iota
	KindSplitWindow
	KindSendKeys
	KindListPanes
	KindKillPane
	KindDisplayMessage
	KindSelectPane
	KindSetOption
	KindSelectLayout
	KindResizePane
	KindHasSession
	KindNewSession
	KindNewWindow
	KindListWindows
	KindBreakPane
	KindJoinPane
)

type SplitWindowArgs struct {
	Horizontal bool
	Target     *string
	PrintInfo  bool
	Format     *string
}

type SendKeysArgs struct {
	Target *string
	Keys   []string
}

type ListPanesArgs struct {
	Target *string
	Format *string
}

type KillPaneArgs struct {
	Target *string
}

type DisplayMsgArgs struct {
	Format *string
}

type SelectPaneArgs struct {
	Target *string
	Style  *string
	Title  *string
}

// OptionScope distinguishes set-option's -p (pane) scope from the
// default session/window scope, which is a no-op in the shim.
type OptionScope int

const (
	ScopeSession OptionScope = iota
	ScopePane
)

type SetOptionArgs struct {
	Scope  OptionScope
	Target *string
	Key    string
	Value  string
}

type SelectLayoutArgs struct {
	Target *string
	Layout *string
}

type ResizePaneArgs struct {
	Target *string
}

type HasSessionArgs struct {
	Target string
}

type NewSessionArgs struct {
	SessionName *string
	WindowName  *string
	PrintInfo   bool
	Format      *string
}

type NewWindowArgs struct {
	Target    *string
	Name      *string
	PrintInfo bool
	Format    *string
}

type ListWindowsArgs struct {
	Target *string
	Format *string
}

type BreakPaneArgs struct {
	Source *string
}

type JoinPaneArgs struct {
	Source *string
	Target *string
}

// Parse translates a tmux argv (excluding argv[0]) into a Command.
//
// Two passes, mirroring parser.rs's parse(): first, every "-L <socket>"
// pair is stripped wherever it appears (kild never needs a named
// socket, since one shim state directory already maps 1:1 to one
// daemon session); then the remaining args are checked for a leading
// "-V"/"version" before the subcommand is dispatched.
func Parse(args []string) (*Command, error) {
	filtered := stripSocketFlag(args)

	if len(filtered) > 0 && (filtered[0] == "-V" || filtered[0] == "version") {
		return &Command{Kind: KindVersion}, nil
	}
	if len(filtered) == 0 {
		return nil, kilderr.ClientError("tmux: no command given")
	}

	sub := filtered[0]
	rest := filtered[1:]
	switch sub {
	case "split-window", "splitw":
		return parseSplitWindow(rest)
	case "send-keys", "send":
		return parseSendKeys(rest)
	case "list-panes", "lsp":
		return parseListPanes(rest)
	case "kill-pane", "killp":
		return parseKillPane(rest)
	case "display-message", "display":
		return parseDisplayMessage(rest)
	case "select-pane", "selectp":
		return parseSelectPane(rest)
	case "set-option", "set":
		return parseSetOption(rest)
	case "select-layout", "selectl":
		return parseSelectLayout(rest)
	case "resize-pane", "resizep":
		return parseResizePane(rest)
	case "has-session", "has":
		return parseHasSession(rest)
	case "new-session", "new":
		return parseNewSession(rest)
	case "new-window", "neww":
		return parseNewWindow(rest)
	case "list-windows", "lsw":
		return parseListWindows(rest)
	case "break-pane", "breakp":
		return parseBreakPane(rest)
	case "join-pane", "joinp":
		return parseJoinPane(rest)
	default:
		return nil, kilderr.ClientError("tmux: unknown command: " + sub)
	}
}

func stripSocketFlag(args []string) []string {
	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-L" {
			i++ // skip the socket name argument too
			continue
		}
		filtered = append(filtered, args[i])
	}
	return filtered
}

// takeValue returns args[i+1] and the advanced index, or an error
// naming flag if no value follows.
func takeValue(args []string, i int, flag string) (string, int, error) {
	if i+1 >= len(args) {
		return "", i, kilderr.ClientError("tmux: option requires an argument -- " + flag)
	}
	return args[i+1], i + 1, nil
}

func parseSplitWindow(args []string) (*Command, error) {
	a := &SplitWindowArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h":
			a.Horizontal = true
		case "-v":
			a.Horizontal = false
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		case "-P":
			a.PrintInfo = true
		case "-F":
			v, ni, err := takeValue(args, i, "F")
			if err != nil {
				return nil, err
			}
			a.Format = &v
			i = ni
		}
	}
	return &Command{Kind: KindSplitWindow, SplitWindow: a}, nil
}

func parseSendKeys(args []string) (*Command, error) {
	a := &SendKeysArgs{}
	i := 0
	for ; i < len(args); i++ {
		if args[i] == "-t" {
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
			continue
		}
		break
	}
	a.Keys = append(a.Keys, args[i:]...)
	return &Command{Kind: KindSendKeys, SendKeys: a}, nil
}

func parseListPanes(args []string) (*Command, error) {
	a := &ListPanesArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		case "-F":
			v, ni, err := takeValue(args, i, "F")
			if err != nil {
				return nil, err
			}
			a.Format = &v
			i = ni
		}
	}
	return &Command{Kind: KindListPanes, ListPanes: a}, nil
}

func parseKillPane(args []string) (*Command, error) {
	a := &KillPaneArgs{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-t" {
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		}
	}
	return &Command{Kind: KindKillPane, KillPane: a}, nil
}

func parseDisplayMessage(args []string) (*Command, error) {
	a := &DisplayMsgArgs{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-p" {
			continue
		}
		if !isFlag(args[i]) {
			v := args[i]
			a.Format = &v
		}
	}
	return &Command{Kind: KindDisplayMessage, DisplayMessage: a}, nil
}

func parseSelectPane(args []string) (*Command, error) {
	a := &SelectPaneArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		case "-P":
			v, ni, err := takeValue(args, i, "P")
			if err != nil {
				return nil, err
			}
			a.Style = &v
			i = ni
		case "-T":
			v, ni, err := takeValue(args, i, "T")
			if err != nil {
				return nil, err
			}
			a.Title = &v
			i = ni
		}
	}
	return &Command{Kind: KindSelectPane, SelectPane: a}, nil
}

func parseSetOption(args []string) (*Command, error) {
	a := &SetOptionArgs{Scope: ScopeSession}
	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-p":
			a.Scope = ScopePane
		case "-g":
			// global scope, same no-op handling as session scope
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) < 1 {
		return nil, kilderr.ClientError("tmux: set-option requires a key")
	}
	a.Key = positional[0]
	if len(positional) >= 2 {
		a.Value = positional[1]
	} else {
		return nil, kilderr.ClientError("tmux: set-option requires a value")
	}
	return &Command{Kind: KindSetOption, SetOption: a}, nil
}

func parseSelectLayout(args []string) (*Command, error) {
	a := &SelectLayoutArgs{}
	var positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-t" {
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
			continue
		}
		positional = append(positional, args[i])
	}
	if len(positional) > 0 {
		a.Layout = &positional[0]
	}
	return &Command{Kind: KindSelectLayout, SelectLayout: a}, nil
}

func parseResizePane(args []string) (*Command, error) {
	a := &ResizePaneArgs{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-t" {
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		}
	}
	return &Command{Kind: KindResizePane, ResizePane: a}, nil
}

func parseHasSession(args []string) (*Command, error) {
	a := &HasSessionArgs{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-t" {
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = v
			i = ni
		}
	}
	if a.Target == "" {
		return nil, kilderr.ClientError("tmux: has-session requires -t")
	}
	return &Command{Kind: KindHasSession, HasSession: a}, nil
}

func parseNewSession(args []string) (*Command, error) {
	a := &NewSessionArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-s":
			v, ni, err := takeValue(args, i, "s")
			if err != nil {
				return nil, err
			}
			a.SessionName = &v
			i = ni
		case "-n":
			v, ni, err := takeValue(args, i, "n")
			if err != nil {
				return nil, err
			}
			a.WindowName = &v
			i = ni
		case "-d":
			// detached: always true in the shim, no state to track
		case "-P":
			a.PrintInfo = true
		case "-F":
			v, ni, err := takeValue(args, i, "F")
			if err != nil {
				return nil, err
			}
			a.Format = &v
			i = ni
		}
	}
	return &Command{Kind: KindNewSession, NewSession: a}, nil
}

func parseNewWindow(args []string) (*Command, error) {
	a := &NewWindowArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		case "-n":
			v, ni, err := takeValue(args, i, "n")
			if err != nil {
				return nil, err
			}
			a.Name = &v
			i = ni
		case "-P":
			a.PrintInfo = true
		case "-F":
			v, ni, err := takeValue(args, i, "F")
			if err != nil {
				return nil, err
			}
			a.Format = &v
			i = ni
		}
	}
	return &Command{Kind: KindNewWindow, NewWindow: a}, nil
}

func parseListWindows(args []string) (*Command, error) {
	a := &ListWindowsArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		case "-F":
			v, ni, err := takeValue(args, i, "F")
			if err != nil {
				return nil, err
			}
			a.Format = &v
			i = ni
		}
	}
	return &Command{Kind: KindListWindows, ListWindows: a}, nil
}

func parseBreakPane(args []string) (*Command, error) {
	a := &BreakPaneArgs{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-s" {
			v, ni, err := takeValue(args, i, "s")
			if err != nil {
				return nil, err
			}
			a.Source = &v
			i = ni
		}
	}
	return &Command{Kind: KindBreakPane, BreakPane: a}, nil
}

func parseJoinPane(args []string) (*Command, error) {
	a := &JoinPaneArgs{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-s":
			v, ni, err := takeValue(args, i, "s")
			if err != nil {
				return nil, err
			}
			a.Source = &v
			i = ni
		case "-t":
			v, ni, err := takeValue(args, i, "t")
			if err != nil {
				return nil, err
			}
			a.Target = &v
			i = ni
		}
	}
	return &Command{Kind: KindJoinPane, JoinPane: a}, nil
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}
