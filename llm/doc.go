// Package llm provides chat model backends with tool calling.
//
// # Backends
//
// Two HTTP backends share the same options:
//
//	model := llm.NewOpenAI()  // Uses OPENAI_API_KEY, gpt-4o-mini, temperature 0.3
//
//	model := llm.NewAnthropic(llm.WithModel("claude-3-5-haiku-20241022"))
//
// # Tool Calls
//
// When a response carries ToolCalls, the caller appends an assistant Message
// holding those calls followed by one RoleTool Message per result:
//
//	messages = append(messages, llm.Message{Role: llm.RoleAssistant, ToolCalls: resp.ToolCalls})
//	messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Name: tc.Name, Content: out})
//
// Each backend maps this to its wire format.
//
// # Rate Limiting
//
// Both backends retry 429 and 5xx responses, honoring the retry-after header
// and otherwise backing off exponentially. Non-retryable failures are
// returned as *APIError.
package llm
