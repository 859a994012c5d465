package core

import "encoding/json"

// Page is the envelope every paged api-2.0 listing comes wrapped in.
type Page[T any] struct {
	Results []T    `json:"results"`
	Next    string `json:"next"`
}

type CourseDetails struct {
	Id              int64  `json:"id"`
	Title           string `json:"title"`
	Url             string `json:"url"`
	CompletionRatio int    `json:"completion_ratio"`
	NumQuizzes      int    `json:"num_quizzes"`
	NumLectures     int    `json:"num_lectures"`
}

type curriculumItem struct {
	Class string `json:"_class"`
	Id    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

const (
	QuizTypeSimple       = "simple-quiz"
	QuizTypeMultiple     = "multiple-choice"
	QuizTypePracticeTest = "practice-test"
	QuizTypeCoding       = "coding-exercise"
)

// QuizContainer groups the assessments sharing one quiz id, the type
// decides which solving strategy applies.
type QuizContainer struct {
	Id   int64
	Type string
}

type SolutionFile struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

type Prompt struct {
	SolutionFiles []SolutionFile `json:"solution_files"`
}

// Assessment is one answerable question instance. InitialId/InitialType
// describe the container it was fetched from, they are filled in locally
// and never come off the wire.
type Assessment struct {
	Class           string          `json:"_class"`
	Id              int64           `json:"id"`
	AssessmentType  string          `json:"assessment_type"`
	CorrectResponse json.RawMessage `json:"correct_response"`
	Prompt          Prompt          `json:"prompt"`

	InitialId   int64  `json:"-"`
	InitialType string `json:"-"`
}

// CorrectLetters decodes correct_response into its answer letters.
// The platform serves either a plain string ("ab") or a list of
// single-letter strings (["a","b"]) depending on the quiz type.
func (a Assessment) CorrectLetters() []string {
	var asList []string
	if err := json.Unmarshal(a.CorrectResponse, &asList); err == nil {
		return asList
	}
	var asString string
	if err := json.Unmarshal(a.CorrectResponse, &asString); err == nil {
		letters := make([]string, 0, len(asString))
		for _, c := range asString {
			letters = append(letters, string(c))
		}
		return letters
	}
	return nil
}

type attemptedQuiz struct {
	Class string `json:"_class"`
	Id    int64  `json:"id"`
}

type courseProgress struct {
	CompletedLectureIds    []int64 `json:"completed_lecture_ids"`
	CompletedQuizIds       []int64 `json:"completed_quiz_ids"`
	CompletedAssignmentIds []int64 `json:"completed_assignment_ids"`
}

type lectureStub struct {
	Id int64 `json:"id"`
}

type enrolledCourse struct {
	Id int64 `json:"id"`
}

// AnswerPayload is the body of an assessment-answers POST on the
// replay path.
type AnswerPayload struct {
	AssessmentId int64           `json:"assessment_id"`
	Response     json.RawMessage `json:"response"`
	Duration     int             `json:"duration"`
}

// LectureCompletion is the body of a completed-lectures POST.
type LectureCompletion struct {
	LectureId  int64 `json:"lecture_id"`
	Downloaded bool  `json:"downloaded"`
}
