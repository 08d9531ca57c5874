package ocypod

// Version is the server version reported by GET /info/version.
var Version = "0.2.0"
