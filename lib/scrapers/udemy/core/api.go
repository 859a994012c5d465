package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const courseDetailFields = "title,url,completion_ratio,num_quizzes,num_lectures"

const curriculumItemsQuery = "page_size=1400" +
	"&fields[lecture]=title,object_index,is_published,sort_order,created,asset,supplementary_assets,is_free" +
	"&fields[quiz]=title,object_index,is_published,sort_order,type" +
	"&fields[practice]=title,object_index,is_published,sort_order" +
	"&fields[chapter]=title,object_index,is_published,sort_order" +
	"&fields[asset]=title,filename,asset_type,status,time_estimation,is_external" +
	"&caching_intent=True"

const assessmentFields = "id,assessment_type,prompt,correct_response,section,question_plain,related_lectures"

// LecturesEndpoint returns the absolute paged listing url for a course's
// lectures, this is the endpoint the catalog resolver hands out.
func (c *Client) LecturesEndpoint(courseId int64) string {
	return fmt.Sprintf(
		"%s/api-2.0/users/me/subscribed-courses/%d/lectures/",
		c.BaseUrl, courseId,
	)
}

func (c *Client) CourseDetails(ctx context.Context, courseId int64) (CourseDetails, error) {
	ctx, span := tracer.Start(ctx, "client:CourseDetails")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/api-2.0/courses/%d/?fields[course]=%s", courseId, courseDetailFields))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course details")
		return CourseDetails{}, err
	}
	if res.IsError() {
		err := &FetchError{Url: res.Request.URL, StatusCode: res.StatusCode(), Body: res.String()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "course details returned non-success status")
		return CourseDetails{}, err
	}

	var details CourseDetails
	err = json.Unmarshal(res.Body(), &details)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode course details")
		return CourseDetails{}, err
	}
	details.Id = courseId
	return details, nil
}

// LectureIds walks the paged lectures listing and returns every lecture id.
func (c *Client) LectureIds(ctx context.Context, lecturesEndpoint string) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "client:LectureIds")
	defer span.End()

	stubs, err := FetchAllPages[lectureStub](ctx, c, lecturesEndpoint)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch lectures")
		return nil, err
	}

	ids := make([]int64, 0, len(stubs))
	for _, s := range stubs {
		ids = append(ids, s.Id)
	}
	span.SetAttributes(attribute.KeyValue{
		Key:   "lectures",
		Value: attribute.IntValue(len(ids)),
	})
	return ids, nil
}

// EnrolledCourseIds lists the ids of every in-progress subscribed course.
func (c *Client) EnrolledCourseIds(ctx context.Context) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "client:EnrolledCourseIds")
	defer span.End()

	start := fmt.Sprintf(
		"%s/api-2.0/users/me/subscribed-courses/?progress_filter=in-progress&page_size=1400",
		c.BaseUrl,
	)
	courses, err := FetchAllPages[enrolledCourse](ctx, c, start)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch enrolled courses")
		return nil, err
	}

	seen := map[int64]bool{}
	var ids []int64
	for _, course := range courses {
		if seen[course.Id] {
			continue
		}
		seen[course.Id] = true
		ids = append(ids, course.Id)
	}
	return ids, nil
}

// QuizContainers lists the quiz containers in a course's curriculum,
// lectures and chapters are filtered out.
func (c *Client) QuizContainers(ctx context.Context, courseId int64) ([]QuizContainer, error) {
	ctx, span := tracer.Start(ctx, "client:QuizContainers")
	defer span.End()

	start := fmt.Sprintf(
		"%s/api-2.0/courses/%d/subscriber-curriculum-items/?%s",
		c.BaseUrl, courseId, curriculumItemsQuery,
	)
	items, err := FetchAllPages[curriculumItem](ctx, c, start)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch curriculum items")
		return nil, err
	}

	var containers []QuizContainer
	for _, item := range items {
		if item.Class != "quiz" {
			continue
		}
		containers = append(containers, QuizContainer{Id: item.Id, Type: item.Type})
	}
	span.SetAttributes(attribute.KeyValue{
		Key:   "containers",
		Value: attribute.IntValue(len(containers)),
	})
	return containers, nil
}

// Assessments lists the member assessments of one quiz container, each
// tagged with the container's id and type.
func (c *Client) Assessments(ctx context.Context, container QuizContainer) ([]Assessment, error) {
	ctx, span := tracer.Start(ctx, "client:Assessments")
	defer span.End()

	start := fmt.Sprintf(
		"%s/api-2.0/quizzes/%d/assessments/?version=1&page_size=1400&fields[assessment]=%s",
		c.BaseUrl, container.Id, assessmentFields,
	)
	fetched, err := FetchAllPages[Assessment](ctx, c, start)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch assessments")
		return nil, err
	}

	var assessments []Assessment
	for _, a := range fetched {
		if a.Class != "assessment" {
			continue
		}
		a.InitialId = container.Id
		a.InitialType = container.Type
		assessments = append(assessments, a)
	}
	return assessments, nil
}

// LatestQuizAttempt looks up the "last attempted quiz" record for a quiz
// container. When a record of class user_attempted_quiz exists its id is
// the real attempt id needed for answer submission.
func (c *Client) LatestQuizAttempt(ctx context.Context, courseId, quizId int64) (int64, bool, error) {
	ctx, span := tracer.Start(ctx, "client:LatestQuizAttempt")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf(
			"/api-2.0/users/me/subscribed-courses/%d/quizzes/%d/user-attempted-quizzes/latest",
			courseId, quizId,
		))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch latest attempt")
		return 0, false, err
	}
	if res.IsError() {
		// no attempt record exists yet, this is the expected state
		// for a never-solved quiz
		return 0, false, nil
	}

	var attempt attemptedQuiz
	err = json.Unmarshal(res.Body(), &attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode latest attempt")
		return 0, false, err
	}
	if attempt.Class != "user_attempted_quiz" {
		return 0, false, nil
	}
	return attempt.Id, true, nil
}

// CompletedAssignmentIds returns the ids of already-finished assignments
// from the course progress endpoint.
func (c *Client) CompletedAssignmentIds(ctx context.Context, courseId int64) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "client:CompletedAssignmentIds")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf(
			"/api-2.0/users/me/subscribed-courses/%d/progress/?page_size=1400&fields[course]=completed_lecture_ids,completed_quiz_ids,last_seen_page,completed_assignment_ids,first_completion_time",
			courseId,
		))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course progress")
		return nil, err
	}
	if res.IsError() {
		err := &FetchError{Url: res.Request.URL, StatusCode: res.StatusCode(), Body: res.String()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "course progress returned non-success status")
		return nil, err
	}

	var progress courseProgress
	err = json.Unmarshal(res.Body(), &progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode course progress")
		return nil, err
	}
	return progress.CompletedAssignmentIds, nil
}

// SubmitAnswer posts an answer payload on the replay path. The status and
// body are always returned so the caller can log failures, non-2xx is not
// retried here.
func (c *Client) SubmitAnswer(ctx context.Context, courseId, attemptId int64, payload AnswerPayload) (int, string, error) {
	ctx, span := tracer.Start(ctx, "client:SubmitAnswer")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(fmt.Sprintf(
			"/api-2.0/users/me/subscribed-courses/%d/user-attempted-quizzes/%d/assessment-answers/",
			courseId, attemptId,
		))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit answer")
		return 0, "", err
	}
	return res.StatusCode(), res.String(), nil
}

// MarkLectureComplete posts one lecture completion. Resubmitting an
// already-completed lecture is harmless.
func (c *Client) MarkLectureComplete(ctx context.Context, courseId, lectureId int64) (int, string, error) {
	ctx, span := tracer.Start(ctx, "client:MarkLectureComplete")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetBody(LectureCompletion{LectureId: lectureId, Downloaded: false}).
		Post(fmt.Sprintf(
			"/api-2.0/users/me/subscribed-courses/%d/completed-lectures/",
			courseId,
		))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark lecture complete")
		return 0, "", err
	}
	return res.StatusCode(), res.String(), nil
}

// MarkQuizCompleted patches a practice-test attempt as completed once all
// of its member assessments have been answered, the HTTP counterpart of
// driving the in-page submit flow.
func (c *Client) MarkQuizCompleted(ctx context.Context, courseId, quizId, attemptId int64) (int, string, error) {
	ctx, span := tracer.Start(ctx, "client:MarkQuizCompleted")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetBody(map[string]bool{"marked_completed": true}).
		Patch(fmt.Sprintf(
			"/api-2.0/users/me/subscribed-courses/%d/quizzes/%d/user-attempted-quizzes/%d/",
			courseId, quizId, attemptId,
		))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark quiz completed")
		return 0, "", err
	}
	return res.StatusCode(), res.String(), nil
}
