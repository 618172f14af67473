// Package pipeline defines the core types and capability interfaces shared
// across the scraping and classification subsystems.
package pipeline
