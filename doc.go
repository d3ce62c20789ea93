// Package cortex is a sidecar memory service for AI agents.
//
// Cortex sits beside an agent runtime and gives it long-term memory:
// every conversational exchange is sifted for durable facts (the
// Sieve), every new query is answered with a token-budgeted context of
// relevant memories (the Gate), and a background engine ages, promotes,
// merges and compresses what has been learned (the Lifecycle).
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/cortexmem/cortex/cmd/cortex@latest
//
// Create a configuration:
//
//	llm:
//	  extraction:
//	    provider: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//	embedding:
//	  provider: "openai"
//	  model: "text-embedding-3-small"
//
// Start the sidecar:
//
//	cortex serve --config cortex.yaml
//
// Then point your agent at the REST API:
//
//	POST /api/v1/ingest  {"user_message": "...", "assistant_message": "..."}
//	POST /api/v1/recall  {"query": "...", "agent_id": "..."}
//
// # Architecture
//
// Memories live in three layers: working (fresh, TTL-bound), core
// (promoted, durable) and archive (aged out, compressible). Retrieval
// is hybrid: SQLite FTS5 BM25 plus a vector index, fused with
// reciprocal rank fusion. Writes pass through a four-tier duplicate
// matcher so the store converges instead of accreting.
//
// Import specific packages to embed Cortex as a library:
//
//	import (
//	    "github.com/cortexmem/cortex/pkg/sieve"
//	    "github.com/cortexmem/cortex/pkg/gate"
//	    "github.com/cortexmem/cortex/pkg/lifecycle"
//	)
package cortex
