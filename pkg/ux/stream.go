// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// StreamProcessor renders an agent event stream to the terminal as it
// arrives: progress messages through a spinner, answer text streamed
// token by token, sources collected for the final citation block.
type StreamProcessor interface {
	// Process consumes a parsed event stream and renders it.
	// Returns the aggregated result, or an error for transport failures
	// and server-reported error events.
	Process(events []StreamEvent) (*StreamResult, error)

	// HandleEvent renders a single event. Used with StreamReader.Read
	// for real-time rendering.
	HandleEvent(event StreamEvent) error

	// Result returns the aggregated result after the stream ends.
	Result() *StreamResult
}

type agentStreamProcessor struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	answer      strings.Builder
	result      StreamResult
	streaming   bool
}

// NewStreamProcessor creates a processor writing to stdout with the
// current personality.
func NewStreamProcessor() StreamProcessor {
	return &agentStreamProcessor{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewStreamProcessorWithWriter creates a processor with a custom writer (for testing)
func NewStreamProcessorWithWriter(w io.Writer, personality PersonalityLevel) StreamProcessor {
	return &agentStreamProcessor{
		writer:      w,
		personality: personality,
	}
}

// Process renders a fully collected event list.
func (p *agentStreamProcessor) Process(events []StreamEvent) (*StreamResult, error) {
	for _, event := range events {
		if err := p.HandleEvent(event); err != nil {
			return nil, err
		}
		if event.Type == StreamEventError {
			return nil, fmt.Errorf("%s", event.Error)
		}
	}
	return p.Result(), nil
}

// HandleEvent renders one event.
func (p *agentStreamProcessor) HandleEvent(event StreamEvent) error {
	p.result.TotalEvents++
	p.result.Events = append(p.result.Events, event)
	if event.Round > p.result.Rounds {
		p.result.Rounds = event.Round
	}

	switch event.Type {
	case StreamEventThinking:
		p.showProgress(progressText(event))

	case StreamEventRetrieval:
		p.showProgress(fmt.Sprintf("[round %d] %s", event.Round, progressText(event)))

	case StreamEventEvaluation:
		p.stopSpinner()
		if p.personality == PersonalityMachine {
			fmt.Fprintf(p.writer, "EVALUATION: %s\n", progressText(event))
		} else {
			fmt.Fprintln(p.writer, Styles.Muted.Render(progressText(event)))
		}

	case StreamEventContent:
		p.handleContent(event.Content)

	case StreamEventSources:
		p.result.Sources = append(p.result.Sources, event.Sources...)

	case StreamEventDone:
		p.result.SessionID = event.SessionID
		p.finalize()

	case StreamEventError:
		p.result.Error = event.Error
		p.finalize()
	}
	return nil
}

// Result returns the aggregated stream result.
func (p *agentStreamProcessor) Result() *StreamResult {
	p.result.Answer = p.answer.String()
	return &p.result
}

// progressText returns the payload of a progress event. Content is the
// canonical field; Message covers servers that only set the typed field.
func progressText(event StreamEvent) string {
	if event.Content != "" {
		return event.Content
	}
	return event.Message
}

// showProgress starts or retargets the spinner; machine mode prints the
// message plainly instead.
func (p *agentStreamProcessor) showProgress(message string) {
	if p.personality == PersonalityMachine {
		fmt.Fprintf(p.writer, "PROGRESS: %s\n", message)
		return
	}
	if p.streaming {
		// Answer text already flowing; late progress goes on its own line.
		fmt.Fprintln(p.writer, Styles.Muted.Render(message))
		return
	}
	if p.spinner == nil {
		p.spinner = NewSpinner(message)
		p.spinner.Start()
	} else {
		p.spinner.UpdateMessage(message)
	}
}

func (p *agentStreamProcessor) handleContent(token string) {
	if p.spinner != nil {
		p.stopSpinner()
		if p.personality != PersonalityMachine {
			fmt.Fprintln(p.writer)
		}
	}
	p.streaming = true
	p.answer.WriteString(token)

	if p.personality == PersonalityMachine {
		// Buffered until finalize in machine mode
		return
	}
	fmt.Fprint(p.writer, token)
}

func (p *agentStreamProcessor) stopSpinner() {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}
}

func (p *agentStreamProcessor) finalize() {
	p.stopSpinner()

	if p.personality == PersonalityMachine {
		if p.answer.Len() > 0 {
			fmt.Fprintf(p.writer, "ANSWER: %s\n", p.answer.String())
		}
		return
	}
	if p.answer.Len() > 0 && !strings.HasSuffix(p.answer.String(), "\n") {
		fmt.Fprintln(p.writer)
	}
}

// RenderSources prints the citation block for an answer.
func RenderSources(w io.Writer, sources []SourceInfo) {
	if len(sources) == 0 {
		return
	}
	if GetPersonality().Level == PersonalityMachine {
		for _, s := range sources {
			fmt.Fprintf(w, "SOURCE: %s (%s) score=%.3f\n", s.ChunkID, s.Section, s.Score)
		}
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, Styles.Subtitle.Render("Sources"))
	for i, s := range sources {
		section := s.Section
		if section == "" {
			section = "unknown section"
		}
		fmt.Fprintf(w, "  %s %d. %s (%.3f)\n",
			Styles.Muted.Render(string(IconBullet)), i+1, section, s.Score)
		if s.TextPreview != "" {
			fmt.Fprintf(w, "     %s\n", Styles.Muted.Render(s.TextPreview))
		}
	}
}
