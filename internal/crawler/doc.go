// Package crawler defines the records, collaborator interfaces, error
// taxonomy and shared helpers (pacer, retry policy, URL shaping) used by the
// ranking, resolver and detail crawl stages.
package crawler
