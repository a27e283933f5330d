/*
Package bridge implements a DNS-over-HTTPS bridge. It accepts standard
wire-format DNS queries over UDP and TCP, translates each into an HTTPS
request against a DNS-over-HTTPS provider speaking the JSON convention,
and translates the provider's JSON response back into a wire-format DNS
answer for the original client. Any stock DNS client can this way resolve
through an encrypted upstream without being aware of the protocol.

There are three fundamental types of objects in this library.

Servers

Servers own the listening sockets. A UDP server reads one query per
datagram, a TCP server reads one length-prefixed query per connection.
Both hand raw queries to the Processor and write back whatever reply it
produces. Servers implement the Service lifecycle and can be started and
stopped together with the Processor using a Stack.

Processor

The Processor is the pipeline between servers and the resolver. It decodes
raw queries, resolves them on a fixed pool of workers, encodes the answers
and delivers them through the originating server. The queue between
servers and workers is bounded, so an overloaded Processor rejects new
work instead of growing without limit.

Resolvers

Resolvers produce an answer for a decoded query. The main implementation
is the DoH JSON client which performs the HTTPS exchange with a provider.
Resolvers can be wrapped, for example to log every query to syslog.
*/
package bridge
