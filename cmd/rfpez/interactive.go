package main

import (
	"errors"
	"fmt"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
)

var (
	agentColor  = color.New(color.FgCyan, color.Bold)
	toolColor   = color.New(color.FgYellow)
	noticeColor = color.New(color.FgYellow, color.Italic)
	errorColor  = color.New(color.FgRed, color.Bold)
	faintColor  = color.New(color.Faint)
)

// runInteractive runs the chat REPL against one fresh session.
func runInteractive(client *Client) error {
	fmt.Println("RFPEZ - procurement chat")
	fmt.Println("Type your request and press Enter. Type 'exit' or 'quit' to quit.")
	fmt.Println()

	session, err := client.CreateSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	faintColor.Printf("Session: %s\n\n", session.ID)

	if agent, err := client.ActiveAgent(session.ID); err == nil {
		agentColor.Printf("%s", agent.Name)
		if agent.InitialPrompt != "" {
			fmt.Printf(": %s", agent.InitialPrompt)
		}
		fmt.Println()
		fmt.Println()
	}

	prompt := promptui.Prompt{
		Label: ">",
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("empty")
			}
			return nil
		},
	}

	for {
		input, err := prompt.Run()
		if err != nil {
			// Ctrl+C or Ctrl+D ends the session.
			if err == promptui.ErrInterrupt || err == promptui.ErrEOF {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}
		input = strings.TrimSpace(input)
		if input == "exit" || input == "quit" || input == "q" {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := runTurn(client, session.ID, input); err != nil {
			errorColor.Printf("\nError: %v\n\n", err)
		}
	}
}

// runTurn sends one message and renders the streamed turn: tool activity as
// it happens, finalized agent messages as markdown at the end.
func runTurn(client *Client, sessionID, content string) error {
	// Snapshots grow per message id; the latest one wins.
	order := []string{}
	latest := map[string]streamMessage{}

	err := client.SendMessage(sessionID, content, func(event streamEvent) {
		switch event.Kind {
		case "message_updated":
			if event.Message == nil || event.Message.Placeholder {
				return
			}
			if _, seen := latest[event.Message.ID]; !seen {
				order = append(order, event.Message.ID)
			}
			latest[event.Message.ID] = *event.Message
		case "message_removed":
			delete(latest, event.RemovedID)
		case "tool_activity":
			if event.Tool == nil {
				return
			}
			switch event.Tool.Phase {
			case "started":
				toolColor.Printf("  ⚙ %s...\n", event.Tool.ToolName)
			case "error":
				toolColor.Printf("  ⚙ %s failed: %s\n", event.Tool.ToolName, event.Tool.Error)
			}
		case "notice":
			noticeColor.Printf("  %s\n", event.Notice)
		case "turn_error":
			errorColor.Printf("\n%s\n", event.Error)
			if event.Retryable {
				faintColor.Println("You can retry this request.")
			}
		}
	})
	if err != nil {
		return err
	}

	for _, id := range order {
		msg, ok := latest[id]
		if !ok || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		fmt.Println()
		if msg.AgentName != "" {
			agentColor.Printf("%s\n", msg.AgentName)
		}
		fmt.Print(string(markdown.Render(msg.Content, 100, 2)))
		for _, ref := range msg.ArtifactRefs {
			label := ref.DisplayText
			if label == "" {
				label = ref.Name
			}
			faintColor.Printf("  [%s] %s (%s)\n", ref.Type, label, ref.ArtifactID)
		}
	}
	fmt.Println()
	return nil
}

func listSessions(client *Client) error {
	sessions, err := client.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-50s", s.ID, title)
		if s.ActiveAgent != "" {
			agentColor.Printf("  %s", s.ActiveAgent)
		}
		fmt.Println()
	}
	return nil
}

func listProposals(client *Client) error {
	proposals, err := client.ListProposals()
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		fmt.Println("No proposals.")
		return nil
	}
	for _, p := range proposals {
		fmt.Printf("%s  %-40s  %-10s  %s\n", p.ID, p.Title, p.Status, p.Budget)
	}
	return nil
}
