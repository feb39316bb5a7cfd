// Package audio holds decoded speech audio and plays it through an output
// graph: an oto/v3 device sink behind a gain stage and an analyser that
// exposes frequency and waveform data for the visualizer.
package audio
