package enforce

import "regexp"

// kr compiles a Korean stem match; Korean agglutination means we match the
// stem and let any ending follow.
func kr(stem string) *regexp.Regexp {
	return regexp.MustCompile(stem)
}

// en compiles a case-insensitive English phrase match.
func en(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + phrase)
}

// flatteryCatalogue is the language-independent token catalogue. Labels are
// canonical across languages: the Korean and English forms of a phrase share
// one label so a bilingual response is not double-counted.
var flatteryCatalogue = []FlatteryPattern{
	// Direct praise — Korean.
	{kr(`훌륭합니`), CategoryDirectPraise, "excellent"},
	{kr(`훌륭한`), CategoryDirectPraise, "excellent"},
	{kr(`완벽합니`), CategoryDirectPraise, "perfect"},
	{kr(`완벽한`), CategoryDirectPraise, "perfect"},
	{kr(`최고의`), CategoryDirectPraise, "the_best"},
	{kr(`최고입니`), CategoryDirectPraise, "the_best"},
	{kr(`대단합니`), CategoryDirectPraise, "amazing"},
	{kr(`대단한`), CategoryDirectPraise, "amazing"},
	{kr(`멋진`), CategoryDirectPraise, "wonderful"},
	{kr(`멋집니`), CategoryDirectPraise, "wonderful"},
	{kr(`굉장합니`), CategoryDirectPraise, "fantastic"},
	{kr(`굉장한`), CategoryDirectPraise, "fantastic"},
	{kr(`탁월한`), CategoryDirectPraise, "outstanding"},
	{kr(`탁월합니`), CategoryDirectPraise, "outstanding"},
	{kr(`천재적`), CategoryDirectPraise, "genius"},
	{kr(`좋은 질문`), CategoryDirectPraise, "great_question"},
	{kr(`훌륭한 질문`), CategoryDirectPraise, "great_question"},
	{kr(`정말 잘하셨`), CategoryDirectPraise, "well_done"},
	{kr(`잘하셨습니`), CategoryDirectPraise, "well_done"},
	{kr(`인상적`), CategoryDirectPraise, "impressive"},

	// Direct praise — English.
	{en(`excellent[!.]?`), CategoryDirectPraise, "excellent"},
	{en(`\bperfect[!.]?`), CategoryDirectPraise, "perfect"},
	{en(`\bamazing\b`), CategoryDirectPraise, "amazing"},
	{en(`\bbrilliant\b`), CategoryDirectPraise, "brilliant"},
	{en(`\bfantastic\b`), CategoryDirectPraise, "fantastic"},
	{en(`\bwonderful\b`), CategoryDirectPraise, "wonderful"},
	{en(`\boutstanding\b`), CategoryDirectPraise, "outstanding"},
	{en(`great question`), CategoryDirectPraise, "great_question"},
	{en(`great job`), CategoryDirectPraise, "well_done"},
	{en(`well done[!.]?`), CategoryDirectPraise, "well_done"},
	{en(`you'?re absolutely right`), CategoryDirectPraise, "absolutely_right"},
	{en(`what a great`), CategoryDirectPraise, "what_a_great"},
	{en(`\bimpressive\b`), CategoryDirectPraise, "impressive"},
	{en(`the best (solution|approach|way)`), CategoryDirectPraise, "the_best"},

	// Self-congratulation — Korean.
	{kr(`성공적으로 완료`), CategorySelfCongratulation, "completed_successfully"},
	{kr(`완벽하게 구현`), CategorySelfCongratulation, "implemented_perfectly"},
	{kr(`완벽하게 작동`), CategorySelfCongratulation, "works_perfectly"},
	{kr(`모든 것이 잘`), CategorySelfCongratulation, "everything_went_well"},
	{kr(`솔루션이에요`), CategorySelfCongratulation, "my_solution"},
	{kr(`해결했습니다!`), CategorySelfCongratulation, "solved_it"},

	// Self-congratulation — English.
	{en(`successfully (completed|implemented|finished)`), CategorySelfCongratulation, "completed_successfully"},
	{en(`works perfectly`), CategorySelfCongratulation, "works_perfectly"},
	{en(`flawless(ly)?`), CategorySelfCongratulation, "flawless"},
	{en(`i('ve| have) (perfectly|successfully)`), CategorySelfCongratulation, "self_praise"},
	{en(`everything (went|worked) (great|perfectly|smoothly)`), CategorySelfCongratulation, "everything_went_well"},

	// Status filler — Korean.
	{kr(`잠시만 기다려`), CategoryStatusFiller, "please_wait"},
	{kr(`잠시만요`), CategoryStatusFiller, "please_wait"},
	{kr(`확인해 ?보겠습니`), CategoryStatusFiller, "let_me_check"},
	{kr(`살펴보겠습니`), CategoryStatusFiller, "let_me_check"},
	{kr(`시작하겠습니`), CategoryStatusFiller, "getting_started"},
	{kr(`진행하겠습니`), CategoryStatusFiller, "proceeding"},

	// Status filler — English.
	{en(`let me (check|look|see|take a look)`), CategoryStatusFiller, "let_me_check"},
	{en(`(one|just a) (moment|second|sec)\b`), CategoryStatusFiller, "please_wait"},
	{en(`i('ll| will) (now|go ahead and) `), CategoryStatusFiller, "proceeding"},
	{en(`sure thing[!.]?`), CategoryStatusFiller, "sure_thing"},
	{en(`happy to help`), CategoryStatusFiller, "happy_to_help"},

	// Unnecessary confirmation — Korean.
	{kr(`물론입니다`), CategoryUnnecessaryConfirmation, "of_course"},
	{kr(`물론이죠`), CategoryUnnecessaryConfirmation, "of_course"},
	{kr(`네,? 알겠습니다`), CategoryUnnecessaryConfirmation, "understood"},
	{kr(`알겠습니다!`), CategoryUnnecessaryConfirmation, "understood"},
	{kr(`당연히`), CategoryUnnecessaryConfirmation, "certainly"},

	// Unnecessary confirmation — English.
	{en(`of course[!,.]`), CategoryUnnecessaryConfirmation, "of_course"},
	{en(`\babsolutely[!.]`), CategoryUnnecessaryConfirmation, "absolutely"},
	{en(`certainly[!.]`), CategoryUnnecessaryConfirmation, "certainly"},
	{en(`no problem[!.]?`), CategoryUnnecessaryConfirmation, "no_problem"},
	{en(`got it[!.]`), CategoryUnnecessaryConfirmation, "got_it"},
}
