package anthropic

// BuildCachedSystemBlocks wraps the system prompt in a single block with a
// cache breakpoint. Every turn of an investigation resends the same system
// prompt, so later turns read it from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
