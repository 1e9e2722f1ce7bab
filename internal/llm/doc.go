// Package llm contains adapters for the language models that answer general
// chat. Provider-specific clients live in subpackages and share the prompt
// layout defined here.
package llm
