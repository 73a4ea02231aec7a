// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the completion ring and the
// collaborators of the accept pipeline.
package fake
