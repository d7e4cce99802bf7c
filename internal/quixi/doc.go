// Package quixi delivers chat replies through the QuIXI HTTP API.
//
// Each message is signed (RSA PKCS#1 v1.5 over SHA-256, base64) and sent as
// a form POST to {api_url}/sendChatMessage. Delivery is best effort: one
// attempt, failures are logged and reported as false.
package quixi
