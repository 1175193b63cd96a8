// Package embeddings turns text into vectors through an OpenAI-compatible
// /embeddings endpoint (OpenAI, TEI, vLLM, Ollama).
package embeddings
