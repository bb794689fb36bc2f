// Package proxy implements /@hot-content: it resolves ${name} and ${ENV.KEY}
// placeholders, fetches a JSON resource on behalf of the browser, shapes the
// result with pick/omit key lists, and caches it under the caller's name
// until the TTL passes or the request signature changes.
package proxy
