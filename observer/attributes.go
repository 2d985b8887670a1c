package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for chat and retrieval spans and metrics.
var (
	AttrChatModel    = attribute.Key("chat.model")
	AttrChatProvider = attribute.Key("chat.provider")
	AttrChatMethod   = attribute.Key("chat.method")

	AttrTokensInput  = attribute.Key("chat.tokens.input")
	AttrTokensOutput = attribute.Key("chat.tokens.output")
	AttrStreamChunks = attribute.Key("chat.stream_chunks")

	AttrEmbedBackend    = attribute.Key("embedding.backend")
	AttrEmbedTextCount  = attribute.Key("embedding.text_count")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")

	AttrSearchScope = attribute.Key("search.scope")
	AttrSearchHits  = attribute.Key("search.hits")

	AttrAuthzAction = attribute.Key("authz.action")
	AttrAuthzAllow  = attribute.Key("authz.allow")
)
