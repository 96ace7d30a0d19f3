// Package mount checks that the backup destination can receive data and reports disk usage.
package mount
