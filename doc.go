/*
Package corsguard decides whether to trust the [origins] of cross-origin
requests and provides [net/http] middleware for
[Cross-Origin Resource Sharing (CORS)] built on top of those decisions.

An [Engine] combines several signals into one decision per request:
the well-formedness and scheme of the origin, membership of its host in a
whitelist (in production), a temporary blocklist, a per-origin rate limit,
and a security score that hostname heuristics, bot-like user agents,
and a poor track record lower. Origins whose score falls too low get
blocked for a while, which turns repeated low-trust traffic into a standing
block without manual intervention.

The engine's decisions never wait on I/O. The whitelist is fetched in the
background, and its unavailability results in denials (fail closed);
reputations are fetched and recorded in the background too, and their
unavailability results in no penalty (fail open).

Care is required for CORS middleware to work as intended:

  - Because [CORS-preflight requests] use [OPTIONS] as their method,
    you [SHOULD NOT] prevent OPTIONS requests from reaching your CORS
    middleware.
  - Because [CORS-preflight requests are not authenticated], authentication
    [SHOULD NOT] take place "ahead of" a CORS middleware.
    However, a CORS middleware [MAY] wrap an authentication middleware.
  - Intermediaries [SHOULD NOT] alter or augment the [CORS response headers]
    that are set by this package's middleware.
  - Multiple CORS middleware [MUST NOT] be stacked.

[CORS response headers]: https://developer.mozilla.org/en-US/docs/Web/HTTP/CORS#the_http_response_headers
[CORS-preflight requests are not authenticated]: https://fetch.spec.whatwg.org/#cors-protocol-and-credentials
[CORS-preflight requests]: https://developer.mozilla.org/en-US/docs/Glossary/Preflight_request
[Cross-Origin Resource Sharing (CORS)]: https://developer.mozilla.org/en-US/docs/Web/HTTP/CORS
[MAY]: https://www.ietf.org/rfc/rfc2119.txt
[MUST NOT]: https://www.ietf.org/rfc/rfc2119.txt
[OPTIONS]: https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods/OPTIONS
[SHOULD NOT]: https://www.ietf.org/rfc/rfc2119.txt
[origins]: https://developer.mozilla.org/en-US/docs/Glossary/Origin
*/
package corsguard
