// Package vid2bp holds the I/O helpers shared by the vid2bp tools: opening
// local or Google Storage inputs, transparent decompression and delimiter
// sniffing for tabular signal files.
package vid2bp
