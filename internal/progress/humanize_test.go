package progress_test

import (
	"github.com/kubev2v/doctrack/internal/progress"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/text/language"
)

var _ = Describe("humanizer", func() {
	DescribeTable("english stages",
		func(raw, expected string) {
			Expect(progress.NewHumanizer(language.English).Humanize(raw)).To(Equal(expected))
		},
		Entry("ocr page", "ocr page 3/10", "Reading page 3 of 10"),
		Entry("ocr page with of", "OCR page 3 of 10", "Reading page 3 of 10"),
		Entry("transcription chunk", "transcribing chunk 4/12", "Transcribing segment 4 of 12"),
		Entry("known phase step", "preprocess step 1/3", "Preparation: step 1 of 3"),
		Entry("unknown phase step", "table_extraction: step 2/5", "Table Extraction: step 2 of 5"),
		Entry("queue position", "queued position 4", "Waiting in queue (position 4)"),
		Entry("preparing", "uploaded", "Preparing document"),
		Entry("finalizing", "writing output", "Finalizing"),
		Entry("unknown passes through", "warming up the GPU", "warming up the GPU"),
		Entry("empty", "", ""),
	)

	It("localizes known stages", func() {
		h := progress.NewHumanizer(language.Spanish)
		Expect(h.Humanize("ocr page 1/2")).To(Equal("Leyendo página 1 de 2"))
		Expect(h.Humanize("mystery")).To(Equal("mystery"))
	})

	DescribeTable("parses languages",
		func(raw string, expected string) {
			Expect(progress.ParseLanguage(raw).String()).To(Equal(expected))
		},
		Entry("empty", "", "en"),
		Entry("spanish region", "es-MX", "es"),
		Entry("garbage", "??", "en"),
	)
})
