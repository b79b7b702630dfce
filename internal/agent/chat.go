package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/mybrowse/internal/llm"
)

const chatDescription = "General reasoning and conversation agent. Use for: answering questions, " +
	"summarizing text, explaining concepts, writing content, calculations, giving recommendations, " +
	"general conversation. Does NOT browse the internet; use the browser agent for that."

// Persona supplies the chat system prompt.
type Persona interface {
	// AIName is the assistant's display name.
	AIName() string
	// SystemPrompt renders the persona prompt with the memory digest appended.
	SystemPrompt(memoryDigest string) string
}

// StaticPersona is a fixed persona used when no persona files are configured.
type StaticPersona struct {
	Name   string
	Prompt string
}

// AIName implements Persona.
func (p StaticPersona) AIName() string {
	if p.Name == "" {
		return "Aria"
	}
	return p.Name
}

// SystemPrompt implements Persona.
func (p StaticPersona) SystemPrompt(memoryDigest string) string {
	prompt := p.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s, a smart and helpful personal AI assistant.", p.AIName())
	}
	if memoryDigest == "" {
		return prompt
	}
	return prompt + "\n\n---\n\n" + memoryDigest
}

// ChatAgent answers with a single LLM completion.
type ChatAgent struct {
	completer   llm.Completer
	persona     Persona
	maxTokens   int64
	temperature float64
}

// NewChatAgent creates the chat agent. A nil persona uses StaticPersona defaults.
func NewChatAgent(completer llm.Completer, persona Persona) *ChatAgent {
	if persona == nil {
		persona = StaticPersona{}
	}
	return &ChatAgent{
		completer:   completer,
		persona:     persona,
		maxTokens:   2048,
		temperature: 0.7,
	}
}

// Name implements Agent.
func (a *ChatAgent) Name() string { return NameChat }

// Description implements Agent.
func (a *ChatAgent) Description() string { return chatDescription }

// Execute implements Agent.
func (a *ChatAgent) Execute(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	progress.emit(StepEvent{Message: fmt.Sprintf("[chat] %s is thinking...", a.persona.AIName())})

	temperature := a.temperature
	reply, err := a.completer.Complete(ctx, llm.CompletionRequest{
		System:      a.persona.SystemPrompt(req.MemoryDigest),
		History:     req.History,
		Prompt:      req.Task,
		MaxTokens:   a.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return &Result{
			Agent:  NameChat,
			Output: fmt.Sprintf("Chat failed: %v", err),
			Errors: []string{err.Error()},
			Steps:  1,
		}, nil
	}
	return &Result{Success: true, Output: reply, Agent: NameChat, Steps: 1}, nil
}
