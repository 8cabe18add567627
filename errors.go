package policygraph

import "errors"

var (
	// ErrVersionNotFound is returned when a version id does not exist.
	ErrVersionNotFound = errors.New("policygraph: version not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("policygraph: unsupported document format")

	// ErrParsingFailed is returned when text extraction fails.
	ErrParsingFailed = errors.New("policygraph: parsing failed")

	// ErrNoArticles is returned when a document contains no article markers.
	ErrNoArticles = errors.New("policygraph: no articles found")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("policygraph: embedding generation failed")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("policygraph: empty question")

	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("policygraph: engine is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("policygraph: invalid configuration")
)
