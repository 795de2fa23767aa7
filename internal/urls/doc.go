// Package urls provides the documentation URLs printed in help text and
// troubleshooting hints, so they can be updated in one place.
//
// Usage:
//
//	import "github.com/muurk/blufi/internal/urls"
//
//	fmt.Printf("Protocol reference: %s\n", urls.BlufiGuide)
package urls
