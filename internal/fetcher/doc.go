// Package fetcher requests indicator exports from the CEPALSTAT API.
//
// Two read-only endpoints exist per indicator:
//
//	{base}/indicator/{id}/metadata?format=csv&lang=en
//	{base}/indicator/{id}/records?format=csv&lang=en&members=
//
// Both return CSV text. Transport errors, timeouts and non-2xx statuses come
// back as *NetworkError so callers can log and move on to the next indicator.
//
// Authentication (API key, bearer token, basic) is handled by the shared
// authRoundTripper; the request timeout comes from config.APIConfig.Timeout.
package fetcher
