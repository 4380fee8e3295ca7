package tokenizer

import (
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "Great taste, my dog loves these treats",
	"medium": `I have bought several of the Vitality canned dog food products and have
        found them all to be of good quality. The product looks more like a stew than a
        processed meat and it smells better. My Labrador is finicky and she appreciates
        this product better than most.`,
	"long": strings.Repeat(`This is a confection that has been around a few centuries. It is a
        light, pillowy citrus gelatin with nuts, in this case filberts. And it is cut into
        tiny squares and then liberally coated with powdered sugar. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	tok := New(DefaultMaxLength)
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tok.Tokenize(text)
			}
		})
	}
}
