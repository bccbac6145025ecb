// Package campaign собирает стадии кампании в Pipeline.
//
// Стадии и их шаги:
//
//	research:    compile_research_input → research_brief → concept_note → summarise_research_findings
//	creative:    prepare_creative_inputs → {sms, image, video, email} → consolidate_creatives
//	golive:      prepare_media_plan → media_buying → summarise_media_buy_report; после одобрения deployment
//	measurement: {previous_metrics, current_metrics} → aggregate_measurements; после одобрения retrieval
//
// Каждая стадия заканчивается approval gate. Политики повторов и сроки
// ответа берутся из config.PipelineConfig.
package campaign
