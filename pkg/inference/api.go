package inference

// RoutesPrefix is the URL prefix under which all model management and runner
// endpoints are served.
const RoutesPrefix = "/v1"
