// Command stateparser renders a state machine table as a mermaid diagram.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/swap"
)

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	out := flag.String("out", "", "outfile")
	stateMachine := flag.String("fsm", "swap", "the state machine to parse")
	flag.Parse()

	if filepath.Ext(*out) != ".md" {
		return errors.New("wrong argument: out must be a .md file")
	}

	fp, err := filepath.Abs(*out)
	if err != nil {
		return err
	}

	switch *stateMachine {
	case "swap":
		return writeMermaidFile(fp, swap.GetStates())

	default:
		fmt.Println("Missing or wrong argument: fsm must be one of:")
		fmt.Println("\tswap")
	}

	return nil
}

func writeMermaidFile(filename string, states fsm.States) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeMermaid(f, states)
}

// writeMermaid writes the state diagram with states and edges in a stable
// order so regenerated files only differ when the table changed.
func writeMermaid(w io.Writer, states fsm.States) error {
	var b bytes.Buffer
	fmt.Fprint(&b, "```mermaid\nstateDiagram-v2\n")

	for _, state := range sortedKeys(states) {
		edges := states[fsm.StateType(state)]
		fmt.Fprintf(&b, "%s\n", state)

		events := make([]string, 0, len(edges.Transitions))
		for event := range edges.Transitions {
			events = append(events, string(event))
		}
		sort.Strings(events)

		for _, event := range events {
			target := edges.Transitions[fsm.EventType(event)]
			fmt.Fprintf(&b, "%s --> %s: %s\n", state, target, event)
		}
	}

	fmt.Fprint(&b, "```\n")
	_, err := w.Write(b.Bytes())

	return err
}

func sortedKeys(m fsm.States) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	return keys
}
