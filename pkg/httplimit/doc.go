/*
Package httplimit wires rate limiting into an http.Client.

Transport is an http.RoundTripper that takes a token from a limiter
before every request, stamps each call with an X-Request-Id, feeds the
server's rate-limit response headers back into the bucket, and retries
429s (and, when a backoff is configured, server errors) with honest
pacing.

	limiter := tokenbucket.New(120, time.Minute)

	transport, err := httplimit.New(httplimit.Config{
		Limiter:    limiter,
		Reconciler: limiter,
		Backoff:    backoff.NewExponential(time.Second, 30*time.Second),
	})
	if err != nil {
		log.Fatal(err)
	}

	client := &http.Client{Transport: transport}
	resp, err := client.Get("https://api.example.com/v1/messages")

Because the bucket both gates requests and absorbs the server's view of
the window, a 429 teaches the limiter when the window actually resets:
Retry-After (seconds or HTTP-date) becomes the bucket's next reset and
its remaining count drops to zero, so subsequent acquisitions wait out
the penalty instead of burning attempts.

A local/global pair guards shared budgets through the Dual adapter:

	pair, _ := dual.New(channelBucket, globalBucket)

	transport, _ := httplimit.New(httplimit.Config{
		Limiter:    httplimit.Dual(pair),
		Reconciler: channelBucket,
	})

Only requests that can be replayed are retried: a request with a body
needs GetBody set, which http.NewRequest provides for the common buffer
types. Unreplayable requests get one attempt and the response is
returned as-is, whatever its status.
*/
package httplimit
