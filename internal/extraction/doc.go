// Package extraction defines core types shared across subsystems and the
// strategy-chain extractor that turns archived pages into structured content.
package extraction
