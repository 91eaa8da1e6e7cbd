// Package api handles incoming HTTP requests, request validation and response
// formatting for the analysis service. It translates HTTP concerns into
// calls on the service layer and maps service errors back to status codes.
package api
