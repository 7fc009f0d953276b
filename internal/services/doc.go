// Package services implements the HTTP clients a detection session depends on.
//
// # Control Plane
//
// [ControlPlane] talks JSON to the detection service:
//   - POST /get-presigned-url issues an [models.UploadCredential] for a file name
//   - POST /start-task starts processing of an uploaded object and returns a task id
//   - GET /get-modules and GET /get-classes list the module catalog
//
// Requests are paced with a [rate.Limiter] and, when a token is configured, authorized through an
// [oauth2.Transport] backed by a static token source. Non-2xx responses become
// [shared.ControlPlaneError] carrying the status and the server's error text.
//
// # Upload Transport
//
// [Uploader] streams a local file to a presigned URL in one PUT and reports byte progress as a
// whole percentage that never decreases, tops out at 99 while in flight and reaches 100 only
// after the destination acknowledges. Failures become [shared.TransportError].
//
// Neither client retries. Retrying is a user decision surfaced by the session.
//
// # Assets
//
// [SelectFile] stats a local file and sniffs its content type with mimetype.
package services
