package client

import "net/http"

// roundTripper adapts the paying client to http.RoundTripper so it can be
// dropped into any code that takes an *http.Client.
type roundTripper struct {
	c *Client
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.c.FetchWithPayment(req.Context(), req)
}

// HTTPClient returns an *http.Client whose requests pay x402 challenges
// transparently.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: roundTripper{c: c}}
}
