package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core/subject"
)

// defaultSubjects is the basic education curriculum offered by the school.
var defaultSubjects = []subject.Subject{
	{Code: "ENG", Name: "English"},
	{Code: "FIL", Name: "Filipino"},
	{Code: "MATH", Name: "Mathematics"},
	{Code: "SCI", Name: "Science"},
	{Code: "AP", Name: "Araling Panlipunan"},
	{Code: "ESP", Name: "Edukasyon sa Pagpapakatao"},
	{Code: "MUS", Name: "Music"},
	{Code: "ART", Name: "Arts"},
	{Code: "PE", Name: "Physical Education"},
	{Code: "HEALTH", Name: "Health"},
	{Code: "TLE", Name: "Technology and Livelihood Education"},
	{Code: "CL", Name: "Christian Living"},
	{Code: "COMP", Name: "Computer"},
}

// seed creates the default subjects. Subjects already present are left alone.
func (cli *commandLine) seed() error {
	ctx := context.Background()
	var created int
	for _, subj := range defaultSubjects {
		subj.CreatedAt = nowFunc().UTC()
		if _, err := cli.subjRepo.CreateSubject(ctx, subj); err != nil {
			if errors.Cause(err) == subject.ErrCodeExists {
				continue
			}
			return errors.Wrapf(err, "creating subject %s", subj.Code)
		}
		created++
	}
	_, _ = fmt.Fprintf(cli.stdout(), "created %d of %d subjects\n", created, len(defaultSubjects))
	return nil
}
