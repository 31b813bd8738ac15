// Package services holds cross-cutting helpers shared by the sync pipeline:
// the error taxonomy used to classify remote and local failures, and context
// annotations used for log correlation.
package services
