package main

// The fixed prompt sequence every round walks through, in order. Each
// player answers all of them independently before results are mixed.
var questions = []string{
	"Kas?",
	"Ar ko?",
	"Kad?",
	"Kur?",
	"Ko darīja?",
	"Kāpēc?",
}
