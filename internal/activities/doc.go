// Package activities содержит единицы работы стадий кампании.
//
// Каждая activity — метод Service с типизированным входом и выходом.
// Stage pipelines в пакете campaign оборачивают их в RetryableStep.
//
// Research:
//   - CompileResearchInput, ResearchBrief, ConceptNote, SummariseFindings
//
// Creative:
//   - PrepareCreativeInputs
//   - GenerateSMS, GenerateImage, GenerateVideo, GenerateEmail (fan-out)
//   - ConsolidateCreatives
//
// Go-live:
//   - PrepareMediaPlan, MediaBuying, SummariseMediaBuy
//   - Deploy (после одобрения)
//
// Measurement:
//   - PreviousMetrics, CurrentMetrics (fan-out), AggregateMeasurements
//   - RetrieveReport (после одобрения)
package activities
