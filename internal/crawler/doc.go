// Package crawler holds the paginated crawl controller together with the
// article model, retry policies and the interfaces implemented by the
// fetcher, extractor and stores.
package crawler
