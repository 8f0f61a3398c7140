// Package services holds cross-cutting helpers shared by step processors and
// the engines: the error taxonomy used to classify step failures and the
// context keys that carry item/step identity into logs.
package services
