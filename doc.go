// Package haven is a local-first, multi-tenant AI chat and workspace backend.
//
// It brokers streaming chat between clients and a local inference server,
// preserves conversation context across model switches through rolling
// summaries, performs retrieval-augmented generation over uploaded documents,
// enforces a hierarchical team/role permission model, and offers an encrypted
// per-team vault for sensitive artifacts.
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [MemoryStore] — durable chat memory: sessions, messages, summaries,
//     document chunks, message embeddings
//   - [TeamStore] — teams, members, invites, promotions, permission grants
//   - [AuditStore] — the append-only audit log
//   - [VaultStore] — encrypted vault items
//   - [Provider] — the upstream inference server (streaming chat, model list)
//   - [Embedder] — text-to-vector embedding
//
// # Quick Start
//
// Construct the services in dependency order and glue them with the chat
// orchestrator:
//
//	mem := sqlite.NewMemoryStore(filepath.Join(dataDir, "chat_memory.db"))
//	emb := embed.Select(embed.FromEnv())
//	idx := index.New(mem, emb)
//	eng := vectorize.New(emb)
//	fabric := authz.New(teams, audit)
//	llm := ollama.New("http://127.0.0.1:11434", "llama3")
//	orch := chat.New(mem, llm, emb, idx, chat.WithFabric(fabric), chat.WithEngine(eng))
//
//	events := make(chan haven.StreamEvent, 32)
//	go func() { _, _ = orch.SendMessage(ctx, req, events) }()
//
// Implementations live in subpackages; the root package holds only types,
// contracts, and small pure helpers so that implementations never import
// each other.
package haven
