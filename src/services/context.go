package services

// LLMMessage represents a message in the conversation
type LLMMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// LLMContext holds the conversation context
type LLMContext struct {
	Messages     []LLMMessage
	SystemPrompt string
	Temperature  float64
}

// NewLLMContext creates a new LLM context
func NewLLMContext(systemPrompt string) *LLMContext {
	return &LLMContext{
		Messages:     make([]LLMMessage, 0),
		SystemPrompt: systemPrompt,
		Temperature:  0.7,
	}
}

func (c *LLMContext) AddUserMessage(content string) {
	c.Messages = append(c.Messages, LLMMessage{
		Role:    "user",
		Content: content,
	})
}

func (c *LLMContext) AddAssistantMessage(content string) {
	c.Messages = append(c.Messages, LLMMessage{
		Role:    "assistant",
		Content: content,
	})
}

// Clear drops the history but keeps the system prompt.
func (c *LLMContext) Clear() {
	c.Messages = make([]LLMMessage, 0)
}

// Len returns the number of history messages.
func (c *LLMContext) Len() int {
	return len(c.Messages)
}

// Clone creates a deep copy of the context
func (c *LLMContext) Clone() *LLMContext {
	clone := &LLMContext{
		SystemPrompt: c.SystemPrompt,
		Temperature:  c.Temperature,
		Messages:     make([]LLMMessage, len(c.Messages)),
	}
	copy(clone.Messages, c.Messages)
	return clone
}

// WithExchange returns a copy extended by one user and one assistant message.
func (c *LLMContext) WithExchange(user, assistant string) *LLMContext {
	next := c.Clone()
	next.AddUserMessage(user)
	next.AddAssistantMessage(assistant)
	return next
}
